// Package delivery is the outbound mail pipeline.
//
// A single Queue owns one worker goroutine that pulls submissions in FIFO order,
// waits out the RateLimiter, consults the CircuitBreaker, calls the Sender and
// records every terminal outcome in the History. Successful sends are mirrored
// into the user's notification feed through the Mirror boundary.
//
// Only one message is in flight at a time; the limiter math depends on it.
package delivery
