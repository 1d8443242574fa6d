package router

// RouteDecision is one candidate provider for a task.
type RouteDecision struct {
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Fallback   string  `json:"fallback,omitempty"`
}

// Analysis is the result of classifying a task description.
type Analysis struct {
	Keywords       []string        `json:"keywords"`
	TaskType       string          `json:"task_type"`
	Routes         []RouteDecision `json:"routes"`
	Parallelizable bool            `json:"parallelizable"`
}

// Providers returns the provider names of all routes, in route order.
func (a *Analysis) Providers() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Routes))
	for _, r := range a.Routes {
		out = append(out, r.Provider)
	}
	return out
}
