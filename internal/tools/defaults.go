package tools

// RegisterCoreTools registers the tools defined directly in this package
// (memory, cron, and task tools, which only need the narrow handles on
// *Context). Tools implemented in subpackages — internal/tools/files,
// internal/tools/exec — are registered by the composition root instead,
// since importing them here would create an import cycle (they import
// this package for Tool/Context/Result).
func RegisterCoreTools(r *Registry) {
	r.Register(&MemoryQueryTool{})
	r.Register(&MemoryUpsertTool{})
	r.Register(&MemoryForgetTool{})
	r.Register(&CronCreateTool{})
	r.Register(&CronListTool{})
	r.Register(&CronCancelTool{})
	r.Register(&TaskSpawnTool{})
	r.Register(&TaskStatusTool{})
}
