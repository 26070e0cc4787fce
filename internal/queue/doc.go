// Package queue implements the durable, priority-ordered, single-runner job
// queue: feedTask persists a JobModel and wakes a
// cooperative drain loop; loadTasks reloads any jobs left over from a prior
// crash. Dequeue order is urgent, then standard, then background, then
// delayed, ascending sequence id within a tier.
package queue
