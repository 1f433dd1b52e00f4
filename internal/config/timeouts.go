package config

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 10 * time.Second

// EventPublish caps a single bid event delivery to Redis or NATS.
const EventPublish = 2 * time.Second

// Connect caps the startup ping of Postgres, Redis and NATS.
const Connect = 5 * time.Second
