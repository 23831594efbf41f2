package debugger

import (
	"context"
	"log/slog"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// objectRegistry is the in-process ObjectRegistry. Handles are sequential
// and stable for the session; the pin keeps the VM from collecting a
// tracked object while the client may still hold its handle.
type objectRegistry struct {
	conn   Conn
	logger *slog.Logger

	next     int
	byObject map[jdwp.ObjectID]int
	byHandle map[int]*RegisteredObject
}

// NewObjectRegistry returns the default object registry backed by the wire
// connection's collection controls.
func NewObjectRegistry(conn Conn, logger *slog.Logger) ObjectRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &objectRegistry{
		conn:     conn,
		logger:   logger,
		next:     1,
		byObject: make(map[jdwp.ObjectID]int),
		byHandle: make(map[int]*RegisteredObject),
	}
}

func (r *objectRegistry) Register(ctx context.Context, obj jdwp.ObjectID, tag jdwp.Tag) int {
	if h, ok := r.byObject[obj]; ok {
		return h
	}
	h := r.next
	r.next++
	r.byObject[obj] = h
	r.byHandle[h] = &RegisteredObject{Object: obj, Tag: tag}
	// Pinning is best effort: a collected object is reported as such at
	// render time rather than here.
	if err := r.conn.DisableCollection(ctx, obj); err != nil {
		if jdwp.IsCollected(err) {
			r.byHandle[h].Invalid = true
		} else {
			r.logger.Debug("pin failed", "object", uint64(obj), "err", err)
		}
	}
	return h
}

func (r *objectRegistry) Update(handle int, typ jdwp.ReferenceTypeID, typeName string) {
	if o, ok := r.byHandle[handle]; ok {
		o.Type = typ
		o.TypeName = typeName
	}
}

func (r *objectRegistry) Get(handle int) (RegisteredObject, bool) {
	o, ok := r.byHandle[handle]
	if !ok {
		return RegisteredObject{}, false
	}
	return *o, true
}

func (r *objectRegistry) MarkCollected(handle int) {
	if o, ok := r.byHandle[handle]; ok {
		o.Invalid = true
	}
}

func (r *objectRegistry) ReleaseAll(ctx context.Context) {
	for h, o := range r.byHandle {
		if !o.Invalid {
			if err := r.conn.EnableCollection(ctx, o.Object); err != nil && !jdwp.IsTerminal(err) {
				r.logger.Debug("unpin failed", "object", uint64(o.Object), "err", err)
			}
		}
		delete(r.byHandle, h)
		delete(r.byObject, o.Object)
	}
}
