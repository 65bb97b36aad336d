/*
Package sync reconciles the local lesson store into the remote task tracker.

# State machine

A lesson is in one of two states, derived from its remote task id:

	unsynced --create--> synced
	synced   --update--> synced

There is no transition out of synced: a remote link, once written, is never
replaced (the store rejects a different id). An unsynced lesson whose name
key matches a live remote task is linked to it before anything is created,
so a pass that created a task but failed to persist the link does not leave
a duplicate behind on the next run.

# What is compared

For a synced lesson the engine fetches the remote task and compares:

  - name and description, patched together in one task update
  - week, week day and subject dropdowns, each set with its own field call
  - the lead set, sent as an add/remove diff on the users field

A local subject that is empty, or a week or day that is unknown, is not
managed: the remote value is neither set nor cleared. Leads that the
directory cannot resolve are dropped with a warning, and while any lead is
unresolved no remote user is removed.

# Pacing

Every mutation waits on the shared ratelimit.Limiter first. Reads are not
paced. The limiter blocks rather than failing, so a long class simply takes
longer.

# Cancellation

The context is checked before each lesson and before each mutation. The
mutation in flight runs on a context detached from cancellation so that a
created task is always linked locally before the pass stops.

# Usage

	eng := sync.New(sync.Config{
	    Store:     st,
	    Reader:    rd,
	    Client:    client,
	    FieldMap:  remote.DefaultFieldMap(),
	    Directory: dir,
	    Limiter:   ratelimit.New(ratelimit.Options{}),
	})
	res, err := eng.Sync(ctx, "PD OTN 06.09.25")
*/
package sync
