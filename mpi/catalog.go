package mpi

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rocketbitz/mpi-go/native"
)

// builtinNames maps the recognised spellings onto predefined datatypes.
// C spellings take precedence where a Go spelling collides ("int").
var builtinNames = map[string]native.BasicType{
	"char":               native.TypeChar,
	"signed char":        native.TypeSignedChar,
	"unsigned char":      native.TypeUnsignedChar,
	"short":              native.TypeShort,
	"unsigned short":     native.TypeUnsignedShort,
	"int":                native.TypeInt,
	"unsigned":           native.TypeUnsigned,
	"unsigned int":       native.TypeUnsigned,
	"long":               native.TypeLong,
	"unsigned long":      native.TypeUnsignedLong,
	"long long":          native.TypeLongLong,
	"unsigned long long": native.TypeUnsignedLongLong,
	"float":              native.TypeFloat,
	"double":             native.TypeDouble,
	"bool":               native.TypeCBool,
	"wchar_t":            native.TypeWChar,

	"int8_t":   native.TypeInt8,
	"int16_t":  native.TypeInt16,
	"int32_t":  native.TypeInt32,
	"int64_t":  native.TypeInt64,
	"uint8_t":  native.TypeUint8,
	"uint16_t": native.TypeUint16,
	"uint32_t": native.TypeUint32,
	"uint64_t": native.TypeUint64,

	"int8":       native.TypeInt8,
	"int16":      native.TypeInt16,
	"int32":      native.TypeInt32,
	"int64":      native.TypeInt64,
	"uint8":      native.TypeUint8,
	"uint16":     native.TypeUint16,
	"uint32":     native.TypeUint32,
	"uint64":     native.TypeUint64,
	"uint":       goUintType,
	"float32":    native.TypeFloat,
	"float64":    native.TypeDouble,
	"complex64":  native.TypeCFloatComplex,
	"complex128": native.TypeCDoubleComplex,
	"byte":       native.TypeByte,
	"packed":     native.TypePacked,
}

var (
	goIntType  = native.TypeInt64
	goUintType = native.TypeUint64
)

func init() {
	if strconv.IntSize == 32 {
		goIntType = native.TypeInt32
		goUintType = native.TypeUint32
		builtinNames["uint"] = goUintType
	}
}

// Catalog maps names to datatypes and tracks the derived datatypes created
// on behalf of callers so they can be released before the runtime shuts
// down. All methods are safe for concurrent use.
type Catalog struct {
	mu         sync.Mutex
	named      map[string]*Datatype
	customized []*Datatype
	byType     map[reflect.Type]*Datatype
}

// NewCatalog returns a catalog holding every built-in name, including the
// MPI spelling of each predefined datatype.
func NewCatalog() *Catalog {
	c := &Catalog{
		named:  make(map[string]*Datatype, len(builtinNames)*2),
		byType: make(map[reflect.Type]*Datatype),
	}
	for name, bt := range builtinNames {
		c.named[name] = predefinedTypes[bt]
	}
	for bt, dt := range predefinedTypes {
		c.named[bt.String()] = dt
	}
	return c
}

// FromName returns the datatype registered under name. The catalog is not
// modified when the name is absent.
func (c *Catalog) FromName(name string) (*Datatype, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dt, ok := c.named[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDatatypeNotFound, name)
	}
	return dt, nil
}

// Add registers dt under name.
func (c *Catalog) Add(name string, dt *Datatype) error {
	if dt == nil {
		return ErrInvalidHandle{"datatype"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.named[name]; ok {
		return fmt.Errorf("%w: %q", ErrDatatypeExists, name)
	}
	c.named[name] = dt
	return nil
}

// Remove unregisters name and reports whether it was present. The datatype
// itself is not released.
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.named[name]
	delete(c.named, name)
	return ok
}

// Names returns every registered name in sorted order.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.named))
	for name := range c.named {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddCustomized hands dt to the catalog, which releases it in
// ClearCustomized. Predefined datatypes are ignored.
func (c *Catalog) AddCustomized(dt *Datatype) {
	if dt == nil || dt.IsPredefined() {
		return
	}
	c.mu.Lock()
	c.customized = append(c.customized, dt)
	c.mu.Unlock()
}

// CustomizedLen returns the number of datatypes awaiting ClearCustomized.
func (c *Catalog) CustomizedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.customized)
}

// ClearCustomized frees every customized datatype, most recent first, and
// forgets the Go types mapped onto them.
func (c *Catalog) ClearCustomized() error {
	c.mu.Lock()
	pending := c.customized
	c.customized = nil
	c.byType = make(map[reflect.Type]*Datatype)
	c.mu.Unlock()

	var err error
	for i := len(pending) - 1; i >= 0; i-- {
		err = multierr.Append(err, pending[i].Free())
		pending[i].Release()
	}
	if len(pending) > 0 {
		debug("customized datatypes drained", zap.Int("count", len(pending)), zap.Error(err))
	}
	return err
}

func (c *Catalog) typeFor(t reflect.Type) (*Datatype, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dt, ok := c.byType[t]
	return dt, ok
}

// storeType records dt for t unless another caller won the race, in which
// case the existing datatype is returned and dt is released.
func (c *Catalog) storeType(t reflect.Type, dt *Datatype) *Datatype {
	c.mu.Lock()
	if existing, ok := c.byType[t]; ok {
		c.mu.Unlock()
		dt.Release()
		return existing
	}
	c.byType[t] = dt
	c.customized = append(c.customized, dt)
	c.mu.Unlock()
	return dt
}
