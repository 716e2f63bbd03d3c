package model

// Task is one unit of work within a pipeline definition.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pipeline is a named, ordered collection of tasks. Task ordering is
// significant: color assignment is positional.
type Pipeline struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// RunStatus is the externally reported lifecycle status of a run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// InProgress reports whether the status belongs to the fixed in-progress
// set that drives the live indicator.
func (s RunStatus) InProgress() bool {
	switch s {
	case StatusPending, StatusRunning:
		return true
	}
	return false
}
