// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

// signal is an asynchronous outcome delivered to a session: a camera
// callback or a failed side effect.
type signal int

const (
	sigNone signal = iota
	sigStarted
	sigStartFailed
	sigRejected
	sigRetry
	sigClosed
	sigOpenFailed
	sigWriteFailed
)

// request is a pending external instruction.
type request uint8

const (
	reqRestart request = 1 << iota
	reqSwitchDrive
	reqSwitchStream
)

// view is everything the transition function may look at.
type view struct {
	state       State
	types       RecordType
	signal      signal
	requests    request
	interrupted bool
	// hold is set while backing off after an I/O failure.
	hold bool
	// storage is ReasonNone when the recording target accepts writes.
	storage    FailReason
	failReason FailReason
	streamOn   bool
	writerOpen bool
}

type effectKind int

const (
	effStartStream effectKind = iota
	effStopStream
	effSelectStream
	effOpenWriter
	effCloseWriter
	effWriteFrames
	effEmitStart
	effEmitFail
	effEmitStreamSwitch
	effBackoff
)

type effect struct {
	kind   effectKind
	reason FailReason
}

// plan is the result of one transition.
type plan struct {
	next    State
	effects []effect
	// work re-flags the session for another pass.
	work bool
	// keep lists the requests that stay pending.
	keep       request
	resetTypes bool
	setReason  bool
	reason     FailReason
}

func (p plan) with(e ...effect) plan {
	p.effects = append(p.effects, e...)
	return p
}

func (p plan) failed(r FailReason) plan {
	p.setReason = true
	p.reason = r
	return p.with(effect{kind: effEmitFail, reason: r})
}

// teardown closes whatever the session holds open.
func teardown(v view) []effect {
	var out []effect
	if v.writerOpen {
		out = append(out, effect{kind: effCloseWriter})
	}
	if v.streamOn {
		out = append(out, effect{kind: effStopStream})
	}
	return out
}

func closeWriter(v view) []effect {
	if v.writerOpen {
		return []effect{{kind: effCloseWriter}}
	}
	return nil
}

func orReason(r, fallback FailReason) FailReason {
	if r != ReasonNone {
		return r
	}
	return fallback
}

// step computes the next state of a session. It has no side effects.
func step(v view) plan {
	if v.types == 0 {
		switch v.state {
		case StateOff:
			return plan{next: StateOff}
		case StateOffWait:
			return plan{next: StateOff}.with(teardown(v)...)
		default:
			return plan{next: StateOffWait, work: true}
		}
	}

	switch v.state {
	case StateOff:
		return plan{next: StateOnWait, work: true}
	case StateOffWait:
		return plan{next: StateOnWait, work: true}.with(teardown(v)...)
	case StateOnWait:
		return stepOnWait(v)
	case StateOn:
		return stepOn(v)
	case StateRestartCleanup:
		return stepRestartCleanup(v)
	case StateRestartInit:
		return stepRestartInit(v)
	case StateDriveSwitch:
		return plan{next: StateOn, work: true, keep: v.requests & reqSwitchStream}.
			with(closeWriter(v)...).
			with(effect{kind: effOpenWriter})
	case StateStreamSwitch:
		return plan{next: StateOnWait, work: true}.
			with(teardown(v)...).
			with(effect{kind: effSelectStream}, effect{kind: effEmitStreamSwitch})
	}
	return plan{next: v.state}
}

func stepOnWait(v view) plan {
	if v.requests&reqSwitchStream != 0 {
		return plan{next: StateStreamSwitch, work: true}
	}
	switch v.signal {
	case sigStartFailed:
		// The stream never came up.
		return plan{next: StateOff, resetTypes: true}.
			with(teardown(v)...).
			failed(orReason(v.storage, ReasonVideoLoss))
	case sigRejected:
		return plan{next: StateOffWait, resetTypes: true, work: true}.
			failed(orReason(v.storage, ReasonVideoLoss))
	case sigStarted:
		if !v.streamOn {
			// Confirmation of a stream this attempt never started.
			break
		}
		if v.storage != ReasonNone {
			return plan{next: StateOffWait, resetTypes: true, work: true}.failed(v.storage)
		}
		return plan{next: StateOn, work: true, setReason: true, reason: ReasonNone}.
			with(effect{kind: effOpenWriter}, effect{kind: effEmitStart})
	}
	if !v.streamOn {
		return plan{next: StateOnWait}.with(effect{kind: effStartStream})
	}
	return plan{next: StateOnWait}
}

func stepOn(v view) plan {
	switch v.signal {
	case sigClosed:
		return plan{next: StateOnWait, work: true}.
			with(teardown(v)...).
			failed(ReasonVideoLoss)
	case sigRetry:
		return plan{next: StateRestartCleanup, work: true, keep: v.requests & reqSwitchStream}.with(closeWriter(v)...)
	case sigOpenFailed, sigWriteFailed:
		return plan{next: StateRestartCleanup, work: true, keep: v.requests & reqSwitchStream}.
			with(closeWriter(v)...).
			with(effect{kind: effBackoff})
	}
	if v.requests&reqSwitchStream != 0 {
		return plan{next: StateStreamSwitch, work: true}
	}
	if v.interrupted || v.storage != ReasonNone || v.requests&reqRestart != 0 {
		return plan{next: StateRestartCleanup, work: true}.with(closeWriter(v)...)
	}
	if v.requests&reqSwitchDrive != 0 {
		return plan{next: StateDriveSwitch, work: true}.with(closeWriter(v)...)
	}
	return plan{next: StateOn}.with(effect{kind: effWriteFrames})
}

func stepRestartCleanup(v view) plan {
	keep := v.requests & reqSwitchStream
	if v.interrupted || v.hold || v.storage != ReasonNone {
		// Parked until Resume, the backoff timer or a storage change flags it.
		p := plan{next: StateRestartCleanup, keep: keep}.with(closeWriter(v)...)
		if v.storage != ReasonNone && v.storage != v.failReason {
			p = p.failed(v.storage)
		}
		return p
	}
	return plan{next: StateRestartInit, work: true, keep: keep}.with(closeWriter(v)...)
}

func stepRestartInit(v view) plan {
	keep := v.requests & reqSwitchStream
	if v.interrupted || v.hold || v.storage != ReasonNone {
		return plan{next: StateRestartCleanup, work: true, keep: keep}
	}
	p := plan{next: StateOn, work: true, keep: keep}.with(effect{kind: effOpenWriter})
	if v.failReason != ReasonNone {
		p.setReason = true
		p.reason = ReasonNone
		p = p.with(effect{kind: effEmitStart})
	}
	return p
}
