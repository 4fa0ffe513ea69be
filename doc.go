// Package ripcord orchestrates disaster-recovery failover executions against
// a managed recovery service. A RecoveryPlan describes ordered waves of
// servers; the engine resolves the single target account, validates capacity
// against service quotas, merges launch overrides, drives wave-by-wave
// execution with durable pause checkpoints, and converges asynchronous job
// completion through a two-stage reconciliation poller.
package ripcord
