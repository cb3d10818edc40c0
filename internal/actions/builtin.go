package actions

// Deps are the collaborators adapter modules need. A module whose
// dependency is nil is not registered.
type Deps struct {
	Launcher      AgentLauncher
	StatusChecker AgentStatusChecker
	Cloud         CloudAgentClient
	Workstreams   WorkstreamLauncher
	Merger        BranchMerger
}

// RegisterBuiltins registers the system module and every adapter module
// whose dependencies are present.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	modules := []Module{SystemModule()}
	if deps.Launcher != nil && deps.StatusChecker != nil {
		modules = append(modules, AgentModule(deps.Launcher, deps.StatusChecker))
	}
	if deps.Cloud != nil {
		modules = append(modules, CloudAgentModule(deps.Cloud))
	}
	if deps.Workstreams != nil {
		modules = append(modules, ImplementationModule(deps.Workstreams))
	}
	if deps.Merger != nil {
		modules = append(modules, GitModule(deps.Merger))
	}
	for _, m := range modules {
		if err := reg.RegisterModule(m); err != nil {
			return err
		}
	}
	return nil
}
