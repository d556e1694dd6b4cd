// Package ids defines the identifier types shared across the datum and
// task packages without creating an import cycle between them.
package ids

// TaskID identifies a Task within a single workflow-scoped arena. Datums
// reference their producing Tasks by ID rather than by pointer, per the
// arena/back-reference design used throughout this engine.
type TaskID string
