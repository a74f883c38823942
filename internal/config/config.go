package config

// Config holds every tunable the index daemon reads at startup: store
// connection, stream-cache connection, worker counts and the four
// admission-control queue caps the scheduler enforces.
//
// Defaults for the queue caps and batch sizes below come from the
// reference C++ worker's scheduler and insert-manager headers, not from
// guesswork: max_active_tasks=32, max_queue_mc_blocks=16384,
// max_queue_blocks=16384, max_queue_txs=524288, max_queue_msgs=524288.
type Config struct {
	DBHost     string `name:"db-host" default:"127.0.0.1" help:"analytical store host"`
	DBPort     int    `name:"db-port" default:"9000" help:"analytical store port"`
	DBUser     string `name:"db-user" default:"default" help:"analytical store user"`
	DBPassword string `name:"db-password" default:"" help:"analytical store password"`
	DBName     string `name:"db-name" default:"default" help:"analytical store database name"`
	DBDSN      string `name:"db" required:"true" help:"full connection string, overrides db-host/port/user/password/name"`

	RedisAddr string `name:"redis" default:"tcp://127.0.0.1:6379" help:"stream cache address"`

	Threads int `name:"threads" alias:"j" default:"7" help:"worker thread count; logged at startup, does not bound parsing or emulation concurrency"`

	FromSeqno int `name:"from" default:"0" help:"masterchain seqno to resume from; logged at startup, the scheduler always continues from the last persisted seqno"`

	MaxActiveTasks   int `name:"max-active-tasks" default:"32" help:"maximum masterchain blocks in flight at once"`
	MaxQueueMcBlocks int `name:"max-queue-mc-blocks" default:"16384" help:"admission cap on queued masterchain blocks"`
	MaxQueueBlocks   int `name:"max-queue-blocks" default:"16384" help:"admission cap on queued shard blocks"`
	MaxQueueTxs      int `name:"max-queue-txs" default:"524288" help:"admission cap on queued transactions"`
	MaxQueueMsgs     int `name:"max-queue-msgs" default:"524288" help:"admission cap on queued messages"`

	BatchBlocksCount      int `name:"batch-blocks-count" default:"100" help:"masterchain blocks per insert batch"`
	MaxParallelInserts    int `name:"max-parallel-insert-actors" default:"4" help:"concurrent insert batches in flight"`
	MaxInsertMcBlocks     int `name:"max-insert-mc-blocks" default:"2000" help:"cap on masterchain blocks in one insert batch"`
	MaxInsertBlocks       int `name:"max-insert-blocks" default:"2000" help:"cap on shard blocks in one insert batch"`
	MaxInsertTxs          int `name:"max-insert-txs" default:"2000" help:"cap on transactions in one insert batch"`
	MaxInsertMsgs         int `name:"max-insert-msgs" default:"2000" help:"cap on messages in one insert batch"`

	EmulateMaxDepth int `name:"emulate-max-depth" default:"20" help:"trace tail emulation recursion cap; not read, the emulator uses its fixed cap of 20"`

	RescanInterval string `name:"rescan-interval" default:"5m" help:"full-state interface rescan period, 0 disables"`

	LogCategories string `name:"log-categories" default:"" help:"comma-separated category allowlist, empty means all"`
	LogLevel      string `name:"log-level" default:"info" help:"minimum log level: debug, info, warning, error"`

	ProfileInterval string `name:"profile-interval" default:"0s" help:"periodic CPU profile interval, 0 disables"`
	ProfileDir      string `name:"profile-dir" default:"" help:"profile output directory; not read, the profiler only logs summaries"`
}
