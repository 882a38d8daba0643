package entity

// Kind classifies a declared configuration key and drives write
// enforcement in the handle.
type Kind int

const (
	// KindStatic values are copied from defaults at creation, persisted,
	// and never mutated afterwards.
	KindStatic Kind = iota

	// KindSettable values may be mutated after creation; writes persist
	// and propagate to the consumer.
	KindSettable

	// KindImmutable values are fixed at creation time and are not part
	// of the persisted base-state comparison.
	KindImmutable

	// KindReactive values are computed by the scheduler and read-only
	// to external mutation.
	KindReactive
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindSettable:
		return "settable"
	case KindImmutable:
		return "immutable"
	case KindReactive:
		return "reactive"
	default:
		return "unknown"
	}
}

// KeySpec declares one configuration key of a domain.
type KeySpec struct {
	Name    string
	Kind    Kind
	Default any
}

// Domain describes one behavioral class of entity: its declared key set
// plus optional per-key value transforms applied on export and read.
type Domain struct {
	Name string
	Keys []KeySpec

	// Serialize, when set, transforms a key's value during Export.
	Serialize func(key string, value any) any

	// Deserialize, when set, transforms a persisted value back to
	// runtime form when a stored row is adopted at load.
	Deserialize func(key string, value any) any
}

// CommonKeys are declared on every entity regardless of domain.
func CommonKeys() []KeySpec {
	return []KeySpec{
		{Name: "name", Kind: KindSettable},
		{Name: "icon", Kind: KindSettable},
		{Name: "available", Kind: KindSettable, Default: true},
	}
}

// EntityOptions configure one AddEntity call.
type EntityOptions struct {
	// UniqueID pins the entity's identity explicitly. When empty, a
	// deterministic id is synthesized from the application name, the
	// domain and SuggestedID.
	UniqueID string

	// SuggestedID is the display id used for id synthesis when no
	// explicit UniqueID is supplied.
	SuggestedID string

	// DeviceID associates the entity with a registered device.
	DeviceID string

	// Defaults override declared key defaults for this instance. Keys
	// must be declared on the domain.
	Defaults map[string]any

	// Locals seed the compiled-in defaults of the locals cache.
	Locals map[string]any
}

// Device is the metadata of one registered device. The device registry
// is append-only and in-memory for the process lifetime; device ids
// participate in the discovery hash.
type Device struct {
	ID              string
	Name            string
	Manufacturer    string
	Model           string
	SoftwareVersion string
	HardwareVersion string
	SuggestedArea   string
}

// Consumer is the link to the external consumer of entity state.
//
// A nil consumer means no live channel exists: writes stay in memory
// and durable storage only.
type Consumer interface {
	// EntityID resolves the consumer-side entity id for a unique id.
	EntityID(uniqueID string) (string, bool)

	// IsAppRegistered reports whether the owning application is known
	// to the consumer. It distinguishes "not yet registered" from
	// "registered but this entity is missing", which is logged louder.
	IsAppRegistered(app string) bool

	// Push transmits an entity's exported value set.
	Push(uniqueID, entityID string, state map[string]any) error
}

// Bus is the event channel used for update fan-out. It is satisfied by
// both bus implementations in internal/infrastructure/bus.
type Bus interface {
	Fire(event string, payload map[string]any) error
	Subscribe(event string, fn func(event string, payload map[string]any)) (func(), error)
}

// Recorder receives accepted value writes for time-series history.
type Recorder interface {
	Record(uniqueID, domain, key string, value any)
}

// UpdatedEvent names the bus event fired after an entity's value set
// changes. Transports may prefix it with their configured root topic.
func UpdatedEvent(uniqueID string) string {
	return "entity/updated/" + uniqueID
}
