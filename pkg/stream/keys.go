package stream

import "fmt"

// TaskStream returns "{domain}:tasks" (namespacing applied by Client.Key).
func TaskStream(domain string) string { return domain + ":tasks" }

// ResultStream returns "{domain}:results".
func ResultStream(domain string) string { return domain + ":results" }

// DLQStream returns "{domain}:dlq".
func DLQStream(domain string) string { return domain + ":dlq" }

// WorkerGroup returns the consumer group name for a domain's task stream.
func WorkerGroup(domain string) string { return domain + "-workers" }

// DLQGroup is the consumer group name for reading the DLQ stream.
const DLQGroup = "dlq-readers"

// HeartbeatKey returns "ops:hb:{service}:{id}".
func HeartbeatKey(service, id string) string { return fmt.Sprintf("ops:hb:%s:%s", service, id) }

// IdempotencyKey returns "ops:idemp:{stream}:{msgID}".
func IdempotencyKey(stream, msgID string) string { return fmt.Sprintf("ops:idemp:%s:%s", stream, msgID) }
