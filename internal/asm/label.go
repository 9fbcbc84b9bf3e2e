package asm

// LabelState tracks where a label is in its lifecycle.
type LabelState uint8

const (
	LabelUnused LabelState = iota
	LabelLinked
	LabelBound
)

func (s LabelState) String() string {
	switch s {
	case LabelUnused:
		return "unused"
	case LabelLinked:
		return "linked"
	case LabelBound:
		return "bound"
	default:
		return "invalid"
	}
}

// Label is a code position that may not be known yet.
//
// Far uses form a chain through their 32-bit placeholders: each placeholder
// holds the offset of the previous far use, and the first one holds its own
// offset. Near uses form an independent chain through their 8-bit
// placeholders, each holding the (non-positive) distance to the previous near
// use, 0 terminating the chain.
type Label struct {
	state   LabelState
	pos     int
	near    int
	hasNear bool
}

func (l *Label) State() LabelState { return l.state }

// Bound reports whether the label has a final position.
func (l *Label) Bound() bool { return l.state == LabelBound }

// Pos returns the bound position. It is only meaningful for bound labels.
func (l *Label) Pos() int { return l.pos }

// NearLinked reports whether any near use is waiting for the label.
func (l *Label) NearLinked() bool { return l.hasNear }

// LinkFar appends a 32-bit placeholder for l at the current offset and pushes
// it onto the far chain. The caller emits the jump opcode first. Bound labels
// are not linked; callers encode the known displacement directly.
func (b *Buffer) LinkFar(l *Label) {
	if l.state == LabelBound {
		b.Failf("link to bound label at %d", l.pos)
		return
	}
	site := b.Len()
	if l.state == LabelLinked {
		b.EmitU32(uint32(int32(l.pos)))
	} else {
		b.EmitU32(uint32(int32(site)))
	}
	l.pos = site
	l.state = LabelLinked
}

// LinkNear appends an 8-bit placeholder for l at the current offset and
// pushes it onto the near chain.
func (b *Buffer) LinkNear(l *Label) {
	if l.state == LabelBound {
		b.Failf("link to bound label at %d", l.pos)
		return
	}
	site := b.Len()
	if l.hasNear {
		delta := l.near - site
		if delta < -128 {
			b.Fail(ErrNearRange)
			return
		}
		b.EmitU8(uint8(int8(delta)))
	} else {
		b.EmitU8(0)
	}
	l.near = site
	l.hasNear = true
}

// Bind fixes l at the current offset and patches every pending use.
func (b *Buffer) Bind(l *Label) {
	if l.state == LabelBound {
		b.Fail(ErrLabelBound)
		return
	}
	pos := b.Len()
	if l.state == LabelLinked {
		site := l.pos
		for {
			next := int(int32(b.U32At(site)))
			b.PatchU32(site, uint32(int32(pos-(site+4))))
			if next == site || b.err != nil {
				break
			}
			site = next
		}
	}
	if l.hasNear {
		site := l.near
		for {
			prev := int(int8(b.At(site)))
			disp := pos - (site + 1)
			if disp > 127 {
				b.Fail(ErrNearRange)
				break
			}
			b.PatchU8(site, uint8(int8(disp)))
			if prev == 0 || b.err != nil {
				break
			}
			site += prev
		}
		l.hasNear = false
	}
	l.state = LabelBound
	l.pos = pos
}
