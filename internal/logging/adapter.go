package logging

// Adapter satisfies the small Info/Error/Debug/Warn logging interfaces used
// across internal/rag/service, internal/rag/qa, and internal/rag/tasks,
// fanning structured fields into the package-wide zerolog Log.
type Adapter struct {
	Component string
}

// NewAdapter returns a logging adapter tagged with component, suitable for
// service.WithLogger / qa.WithLogger / tasks.NewQueue's Logger parameter.
func NewAdapter(component string) Adapter { return Adapter{Component: component} }

func (a Adapter) Info(msg string, fields map[string]any) {
	ev := WithComponent(a.Component).Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a Adapter) Error(msg string, fields map[string]any) {
	ev := WithComponent(a.Component).Error()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a Adapter) Debug(msg string, fields map[string]any) {
	ev := WithComponent(a.Component).Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (a Adapter) Warn(msg string, fields map[string]any) {
	ev := WithComponent(a.Component).Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
