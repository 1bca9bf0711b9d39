package config

import "time"

// NetworkTimeout caps a single fetch against the origin so network-first
// strategies fall back to the cache promptly.
const NetworkTimeout = 5 * time.Second

// ReadHeader limits how long the proxy waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the proxy waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
