package config

import "github.com/i5heu/GoLockFreeQueues/internal/testbench"

// Config is an alias for testbench.Config. This allows other programs to import
// the benchmark configuration without reaching into internal packages.
type Config = testbench.Config

// Mode is an alias for testbench.Mode.
type Mode = testbench.Mode

const (
	ModeMPMC = testbench.ModeMPMC
	ModeSPSC = testbench.ModeSPSC
)

// SPSC returns the config for one producer and one dedicated consumer
// pushing messages sequential values.
func SPSC(messages int) Config {
	return Config{NumProducers: 1, NumConsumers: 1, MessagesPerProducer: messages, Mode: ModeSPSC}
}

// MPMC returns the config for producers goroutines each pushing messages
// globally unique values, drained by consumers goroutines.
func MPMC(producers, consumers, messages int) Config {
	return Config{
		NumProducers:        producers,
		NumConsumers:        consumers,
		MessagesPerProducer: messages,
		Mode:                ModeMPMC,
	}
}
