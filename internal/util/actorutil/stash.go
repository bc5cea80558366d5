package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash holds messages an actor cannot handle in its current behavior.
// Unstashed messages keep their original sender.
type Stash struct {
	stash []stashElem
}

type stashElem struct {
	msg    any
	sender *actor.PID
}

func (stash *Stash) Stash(ctx actor.Context, msg any) {
	stash.stash = append(stash.stash, stashElem{
		msg:    msg,
		sender: ctx.Sender(),
	})
}

func (stash *Stash) Len() int {
	return len(stash.stash)
}

func (stash *Stash) UnstashAll(ctx actor.Context) {
	pending := stash.stash
	stash.stash = nil
	for _, elem := range pending {
		stash.redeliver(ctx, elem)
	}
}

func (stash *Stash) UnstashOldest(ctx actor.Context) {
	if len(stash.stash) == 0 {
		return
	}
	first := stash.stash[0]
	stash.stash = stash.stash[1:]
	stash.redeliver(ctx, first)
}

func (stash *Stash) redeliver(ctx actor.Context, elem stashElem) {
	if elem.sender == nil {
		ctx.Send(ctx.Self(), elem.msg)
		return
	}
	ctx.RequestWithCustomSender(ctx.Self(), elem.msg, elem.sender)
}
