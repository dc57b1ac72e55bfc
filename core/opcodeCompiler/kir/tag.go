package kir

// TagKind names the analysis that consumes a provenance tag.
type TagKind uint8

const (
	TagIntegerBug TagKind = iota
	TagReentrancy
	TagTxOrigin
	TagSelfDestruct
	TagUncheckedCall
	TagBlockState
	TagUnusedReturn
	NumTagKinds
)

var tagNames = [NumTagKinds]string{
	"intsan", "rensan", "orgsan", "sucsan", "ucksan", "bsdsan", "msesan",
}

func (k TagKind) String() string {
	if k < NumTagKinds {
		return tagNames[k]
	}
	return "tag?"
}

// Tag marks an instruction as a candidate site for one analysis.
type Tag struct {
	Kind TagKind
	Inst *Inst
	PC   uint32
	// Op is the source mnemonic, e.g. "add" for an overflow candidate.
	Op string
	// Args carries operands the analysis needs but cannot recover from the
	// instruction itself, such as the gas forwarded by a call.
	Args []Value
}

// TagMap is an auxiliary instruction-to-tag side table kept in insertion order.
// An instruction may carry several tags of different kinds.
type TagMap struct {
	tags []Tag
}

func NewTagMap() *TagMap { return &TagMap{} }

// Attach records a tag for inst.
func (m *TagMap) Attach(inst *Inst, kind TagKind, pc uint32, op string, args ...Value) {
	m.tags = append(m.tags, Tag{Kind: kind, Inst: inst, PC: pc, Op: op, Args: args})
}

// Tagged returns the live tags of the given kind. Tags on erased
// instructions are skipped.
func (m *TagMap) Tagged(kind TagKind) []Tag {
	var out []Tag
	for _, t := range m.tags {
		if t.Kind == kind && t.Inst.parent != nil {
			out = append(out, t)
		}
	}
	return out
}

// Lookup returns the tag of the given kind on inst.
func (m *TagMap) Lookup(inst *Inst, kind TagKind) (Tag, bool) {
	for _, t := range m.tags {
		if t.Inst == inst && t.Kind == kind {
			return t, true
		}
	}
	return Tag{}, false
}

// Strip drops every tag of the given kind and returns how many were dropped.
func (m *TagMap) Strip(kind TagKind) int {
	kept := m.tags[:0]
	dropped := 0
	for _, t := range m.tags {
		if t.Kind == kind {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	m.tags = kept
	return dropped
}

// Len returns the number of tags held.
func (m *TagMap) Len() int { return len(m.tags) }

// Reset drops all tags.
func (m *TagMap) Reset() { m.tags = nil }
