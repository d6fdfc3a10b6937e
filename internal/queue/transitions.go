package queue

type action string

const (
	actionCall      action = "call"
	actionServe     action = "serve"
	actionComplete  action = "complete"
	actionClose     action = "close"
	actionFastTrack action = "fast_track"
)

var transitionMap = map[action]map[Status]Status{
	actionCall:      {StatusQueued: StatusCalled},
	actionServe:     {StatusCalled: StatusServing},
	actionComplete:  {StatusCalled: StatusCompleted, StatusServing: StatusCompleted},
	actionClose:     {StatusQueued: StatusCompleted, StatusCalled: StatusCompleted, StatusServing: StatusCompleted},
	actionFastTrack: {StatusQueued: StatusQueued},
}

// nextStatus returns the status an entry moves to when act is applied from from.
func nextStatus(act action, from Status) (Status, bool) {
	allowed, ok := transitionMap[act]
	if !ok {
		return "", false
	}
	to, ok := allowed[from]
	return to, ok
}
