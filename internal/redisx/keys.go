package redisx

import "time"

const (
	// Status cache: order_status:{id} -> {"status": "...", "shipping_status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event id or webhook fingerprint)
	KeyDedup = "dedup:%s:%s"

	// Idempotent stock purchase: idem:stock:{idempotency key} -> product id
	KeyIdemStock = "idem:stock:%s"

	// Courier bearer token shared between api and shipping processes.
	KeyCourierToken = "courier:token"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
