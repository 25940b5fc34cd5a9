// Package ipc implements endpoints, connections, and the message-passing
// engine: send/lend/lend-mut, receive, reply, and interrupt delivery as
// synthetic messages. Generalized from an MMIO dispatch-by-address table to
// dispatch-by-128-bit-ID, and from a fixed 8-level interrupt priority table
// to a PID-claimed interrupt line table.
package ipc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
	"github.com/betrusted-io/xous-kernel/internal/process"
	"github.com/betrusted-io/xous-kernel/internal/sched"
)

// Table sizing: 128 endpoints per process.
const (
	MaxEndpoints      = 128
	MaxConnections    = 128
	DefaultQueueDepth = 16
)

// Well-known endpoint IDs, fixed rather than randomly generated, and bound
// to the kernel process by internal/kernel at boot.
var (
	WellKnownName      = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	WellKnownLog       = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	WellKnownTickTimer = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfSlots      = errors.New("out of slots")
	ErrAccessDenied    = errors.New("access denied")
	ErrQueueFull       = errors.New("queue full")
	ErrEndpointGone    = errors.New("endpoint gone")
	ErrRecipientGone   = errors.New("recipient gone")
	ErrNotReady        = errors.New("not ready")
)

// MessageKind distinguishes the four message variants: scalar nonblocking,
// scalar blocking, memory send, and memory lend (mutable or not).
type MessageKind uint8

const (
	KindScalarNonblocking MessageKind = iota
	KindScalarBlocking
	KindMemorySend
	KindMemoryLend
	KindMemoryLendMut
)

// Message is one enqueued or in-flight message.
type Message struct {
	Kind   MessageKind
	Opcode uint32
	Args   [5]uint32

	SenderPID frame.PID
	SenderTID uint8

	// Memory message fields.
	Frames     []uint32 // Physical frames carried by the message.
	Offset     uint32
	Len        uint32
	SenderVirt uint32 // Sender's original virtual address, for lend round-trip.
	ReceiverVirt uint32 // Address chosen in the receiver's address space.
}

// endpoint is one server mailbox.
type endpoint struct {
	id        uuid.UUID
	ownerPID  frame.PID
	index     uint8
	allowList map[frame.PID]bool // nil or empty means unrestricted.
	capacity  int
	queue     []Message
	blocked   []sched.Entry // Threads parked in receive on this endpoint, FIFO.
	destroyed bool
}

func (e *endpoint) full() bool { return len(e.queue) >= e.capacity }

// connection is a per-process handle referring to an endpoint.
type connection struct {
	inUse     bool
	targetPID frame.PID
	targetIdx uint8
}

type endpointRef struct {
	pid   frame.PID
	index uint8
}

// Registry holds every process's endpoints and connections, plus the
// kernel-wide ID → (owner, index) map that makes routing O(1) after
// Connect.
type Registry struct {
	endpoints   map[frame.PID]*[MaxEndpoints]endpoint
	connections map[frame.PID]*[MaxConnections]connection
	byID        map[uuid.UUID]endpointRef

	queueDepth int
	random     io.Reader

	log *log.Logger
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithQueueDepth overrides the default per-endpoint queue capacity.
func WithQueueDepth(n int) Option {
	return func(r *Registry) { r.queueDepth = n }
}

// WithRandomSource overrides the source of randomness used to generate
// endpoint IDs, for deterministic tests.
func WithRandomSource(rnd io.Reader) Option {
	return func(r *Registry) { r.random = rnd }
}

// NewRegistry creates an empty registry. The well-known endpoint IDs above
// are bound to the kernel process separately, once a process table exists.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		endpoints:   make(map[frame.PID]*[MaxEndpoints]endpoint),
		connections: make(map[frame.PID]*[MaxConnections]connection),
		byID:        make(map[uuid.UUID]endpointRef),
		queueDepth:  DefaultQueueDepth,
		random:      rand.Reader,
		log:         log.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// BindWellKnown registers one of the three fixed well-known IDs to pid in
// pid's first free endpoint slot. internal/kernel calls it once per ID at
// boot, binding the name, log, and tick-timer IDs to the kernel process.
func (r *Registry) BindWellKnown(id uuid.UUID, pid frame.PID) error {
	idx, err := r.allocateSlot(pid)
	if err != nil {
		return err
	}

	table := r.endpoints[pid]
	table[idx] = endpoint{id: id, ownerPID: pid, index: idx, capacity: r.queueDepth}
	r.byID[id] = endpointRef{pid: pid, index: idx}

	return nil
}

func (r *Registry) allocateSlot(pid frame.PID) (uint8, error) {
	table, ok := r.endpoints[pid]
	if !ok {
		table = &[MaxEndpoints]endpoint{}
		r.endpoints[pid] = table
	}

	for i := range table {
		if table[i].id == uuid.Nil {
			return uint8(i), nil
		}
	}

	return 0, ErrOutOfSlots
}

// CreateServer creates a new endpoint owned by pid with a cryptographically
// random 128-bit ID, optionally restricted to an allow-list of PIDs.
func (r *Registry) CreateServer(pid frame.PID, allow []frame.PID) (uuid.UUID, error) {
	idx, err := r.allocateSlot(pid)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewRandomFromReader(r.random)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: generating endpoint id: %w", ErrInvalidArgument, err)
	}

	var allowSet map[frame.PID]bool
	if len(allow) > 0 {
		allowSet = make(map[frame.PID]bool, len(allow))
		for _, p := range allow {
			allowSet[p] = true
		}
	}

	table := r.endpoints[pid]
	table[idx] = endpoint{
		id:        id,
		ownerPID:  pid,
		index:     idx,
		allowList: allowSet,
		capacity:  r.queueDepth,
	}
	r.byID[id] = endpointRef{pid: pid, index: idx}

	r.log.Info("ipc: server created", "pid", pid, "endpoint", id)

	return id, nil
}

// Connect resolves id to an endpoint and allocates a connection handle for
// caller, subject to the endpoint's allow-list.
func (r *Registry) Connect(caller frame.PID, id uuid.UUID) (uint8, error) {
	ref, ok := r.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: unknown endpoint", ErrInvalidArgument)
	}

	ep := r.endpointAt(ref)
	if ep == nil || ep.destroyed {
		return 0, ErrEndpointGone
	}

	if ep.allowList != nil && !ep.allowList[caller] {
		return 0, fmt.Errorf("%w: pid %d not on allow-list", ErrAccessDenied, caller)
	}

	table, ok := r.connections[caller]
	if !ok {
		table = &[MaxConnections]connection{}
		r.connections[caller] = table
	}

	for i := range table {
		if !table[i].inUse {
			table[i] = connection{inUse: true, targetPID: ref.pid, targetIdx: ref.index}
			return uint8(i), nil
		}
	}

	return 0, ErrOutOfSlots
}

func (r *Registry) endpointAt(ref endpointRef) *endpoint {
	table, ok := r.endpoints[ref.pid]
	if !ok {
		return nil
	}

	return &table[ref.index]
}

// resolve turns a caller's connection handle into the target endpoint.
func (r *Registry) resolve(caller frame.PID, cid uint8) (*endpoint, error) {
	table, ok := r.connections[caller]
	if !ok || int(cid) >= MaxConnections || !table[cid].inUse {
		return nil, fmt.Errorf("%w: invalid connection handle", ErrInvalidArgument)
	}

	ref := endpointRef{pid: table[cid].targetPID, index: table[cid].targetIdx}

	ep := r.endpointAt(ref)
	if ep == nil {
		return nil, ErrEndpointGone
	}

	return ep, nil
}

// DestroyOwned destroys every endpoint owned by pid, waking every sender
// blocked on them with endpoint-gone, called from process exit.
func (r *Registry) DestroyOwned(pid frame.PID, table *process.Table, sch *sched.Scheduler) {
	eps, ok := r.endpoints[pid]
	if !ok {
		return
	}

	for i := range eps {
		ep := &eps[i]
		if ep.id == uuid.Nil || ep.destroyed {
			continue
		}

		ep.destroyed = true

		for _, msg := range ep.queue {
			r.wakeSenderGone(msg, table, sch)
		}

		ep.queue = nil

		delete(r.byID, ep.id)
	}
}

func (r *Registry) wakeSenderGone(msg Message, table *process.Table, sch *sched.Scheduler) {
	th, err := table.Thread(msg.SenderPID, msg.SenderTID)
	if err != nil {
		return
	}

	if th.State == process.StateBlockedReply {
		th.State = process.StateRunnable
		th.ExitError = ErrEndpointGone
		sch.Wake(sched.Entry{PID: msg.SenderPID, TID: msg.SenderTID})
	}
}

// ReclaimConnections removes every connection handle in every process that
// pointed at pid, called from process exit. No notification is sent to
// connectors: their next send simply fails.
func (r *Registry) ReclaimConnections(pid frame.PID) {
	for _, table := range r.connections {
		for i := range table {
			if table[i].inUse && table[i].targetPID == pid {
				table[i] = connection{}
			}
		}
	}
}
