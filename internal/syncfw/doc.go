// Package syncfw is the base synchronization framework drivers plug into.
//
// A Timeline is an ordered sequence of Points owned by one driver, which
// supplies the behaviour of its points through a TimelineOps table. A Fence
// aggregates points from any number of timelines and is signaled once every
// point is. Consumers wait on a fence synchronously (Wait) or register a
// Waiter callback (WaitAsync).
//
// Lifetimes are reference counted. A timeline holds one reference for its
// creator plus one per live point; its ReleaseTimeline op runs when the last
// one is dropped. A fence owns its points and frees them through FreePoint
// when its own count reaches zero.
package syncfw
