package agents

// Match picks the agent that should run a task for workspaceKey.
//
// Idle agents bound to the workspace are preferred; failing that any idle
// agent is used so that locality never blocks progress. Within a tier the
// agent with the oldest heartbeat wins, which spreads load across agents.
func Match(candidates []Agent, workspaceKey string) (Agent, bool) {
	if a, ok := oldestIdle(candidates, func(a Agent) bool { return a.ServesWorkspace(workspaceKey) }); ok {
		return a, true
	}
	return oldestIdle(candidates, func(Agent) bool { return true })
}

func oldestIdle(candidates []Agent, keep func(Agent) bool) (Agent, bool) {
	var (
		best  Agent
		found bool
	)
	for _, a := range candidates {
		if !a.Idle() || !keep(a) {
			continue
		}
		if !found || older(a, best) {
			best = a
			found = true
		}
	}
	return best, found
}

// older orders by LastSeenAt, then ID so equal heartbeats resolve deterministically.
func older(a, b Agent) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.Before(b.LastSeenAt)
	}
	return a.ID < b.ID
}
