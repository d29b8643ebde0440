package solver

// BundleWidth is the number of constraint lanes packed into one bundle of
// the solver's AoSoA storage.
const BundleWidth = 4

// MaxContacts is the maximum number of contact points in a manifold.
const MaxContacts = 4

// TypeCode is the compact 4-bit code of a contact constraint, encoding three
// independent axes: contact count (1-4), convex versus nonconvex manifold,
// and one-body versus two-body.
//
// Layout: [1:0] contact count - 1, [2] two-body, [3] nonconvex.
type TypeCode uint8

// NumTypeCodes is the number of distinct type codes.
const NumTypeCodes = 16

const (
	codeTwoBodyFlag   TypeCode = 1 << 2
	codeNonconvexFlag TypeCode = 1 << 3
)

// NewTypeCode creates type code from its three axes.
func NewTypeCode(contactCount int, twoBody, nonconvex bool) TypeCode {
	code := TypeCode(contactCount - 1)
	if twoBody {
		code |= codeTwoBodyFlag
	}
	if nonconvex {
		code |= codeNonconvexFlag
	}
	return code
}

// ContactCount returns the number of contacts in the manifold, 1 to 4.
func (c TypeCode) ContactCount() int {
	return int(c&0x3) + 1
}

// TwoBody reports whether the constraint acts on two dynamic bodies rather
// than one body against static geometry.
func (c TypeCode) TwoBody() bool {
	return c&codeTwoBodyFlag != 0
}

// Nonconvex reports whether the manifold came from a nonconvex pair.
func (c TypeCode) Nonconvex() bool {
	return c&codeNonconvexFlag != 0
}

// Layout describes the physical impulse layout of one type code: how many
// float32 rows one bundle carries and how many bodies the constraint
// touches. Nonconvex manifolds share the convex per-contact normal-impulse
// rows, so a single table covers all sixteen codes.
type Layout struct {
	ContactCount uint8
	Bodies       uint8

	// BundleStride is the number of float32 values per bundle:
	// ContactCount rows of BundleWidth lanes.
	BundleStride uint32
}

var layouts [NumTypeCodes]Layout

func init() {
	for code := range TypeCode(NumTypeCodes) {
		bodies := uint8(1)
		if code.TwoBody() {
			bodies = 2
		}
		layouts[code] = Layout{
			ContactCount: uint8(code.ContactCount()),
			Bodies:       bodies,
			BundleStride: uint32(code.ContactCount()) * BundleWidth,
		}
	}
}

// LayoutOf returns the physical layout of the type code.
func LayoutOf(code TypeCode) Layout {
	return layouts[code]
}
