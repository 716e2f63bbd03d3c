package view

import "runview/internal/model"

// ColorFallback is resolved for task ids absent from the pipeline
// definition. Neutral, never an error.
const ColorFallback = "#8b949e"

// palette is the fixed task color cycle. Pipelines with more tasks than
// palette entries reuse colors; the collision is accepted.
var palette = []string{
	"#58a6ff",
	"#56d364",
	"#f59e0b",
	"#f87171",
	"#a78bfa",
	"#34d399",
	"#fbbf24",
	"#79c0ff",
}

// TaskColorMap maps task id to display color for one pipeline definition.
// Assignment is positional, so two pipelines with the same task ordering
// always get the same mapping.
type TaskColorMap map[string]string

// AssignColors builds the color map for a pipeline's ordered task list.
func AssignColors(tasks []model.Task) TaskColorMap {
	m := make(TaskColorMap, len(tasks))
	for i, task := range tasks {
		m[task.ID] = palette[i%len(palette)]
	}
	return m
}

// Color resolves the display color for a task id.
func (m TaskColorMap) Color(taskID string) string {
	if c, ok := m[taskID]; ok {
		return c
	}
	return ColorFallback
}
