// Package projection wraps github.com/ctessum/geom/proj with CRS aliases and
// a transformer cache keyed by (source, target) CRS.
package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	lru "github.com/hashicorp/golang-lru/v2"
)

// WGS84 is the geographic CRS observations are recorded in.
const WGS84 = "EPSG:4326"

const (
	longLatProj = "+proj=longlat +datum=WGS84 +no_defs"
	webMapProj  = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"
)

// DefaultCacheSize bounds the number of distinct CRS pairs kept in memory.
const DefaultCacheSize = 64

// ErrUnknownCRS is returned for EPSG codes without a built-in definition.
var ErrUnknownCRS = errors.New("unknown CRS")

// Transformer converts a geographic (lon, lat) pair in the source CRS to
// projected (x, y) in the target CRS. Axis order is always lon first.
type Transformer func(lon, lat float64) (x, y float64, err error)

// Resolve expands EPSG aliases into proj4 definitions. Proj4 strings are
// returned trimmed and otherwise unchanged.
func Resolve(crs string) (string, error) {
	s := strings.TrimSpace(crs)
	if s == "" {
		return "", fmt.Errorf("%w: empty definition", ErrUnknownCRS)
	}

	lower := strings.ToLower(s)
	lower = strings.TrimPrefix(lower, "+init=")
	if !strings.HasPrefix(lower, "epsg:") {
		return s, nil
	}

	code, err := strconv.Atoi(strings.TrimPrefix(lower, "epsg:"))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCRS, crs)
	}
	switch {
	case code == 4326:
		return longLatProj, nil
	case code == 3857 || code == 900913:
		return webMapProj, nil
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("%w: EPSG:%d", ErrUnknownCRS, code)
}

// Parse resolves and parses a CRS definition.
func Parse(crs string) (*proj.SR, error) {
	def, err := Resolve(crs)
	if err != nil {
		return nil, err
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parsing CRS %q: %w", crs, err)
	}
	return sr, nil
}

// New builds a transformer from src to dst. Identical definitions yield the
// identity transformer.
func New(src, dst string) (Transformer, error) {
	srcDef, err := Resolve(src)
	if err != nil {
		return nil, err
	}
	dstDef, err := Resolve(dst)
	if err != nil {
		return nil, err
	}
	if srcDef == dstDef {
		return checked(func(lon, lat float64) (float64, float64, error) {
			return lon, lat, nil
		}), nil
	}

	srcSR, err := proj.Parse(srcDef)
	if err != nil {
		return nil, fmt.Errorf("parsing source CRS %q: %w", src, err)
	}
	dstSR, err := proj.Parse(dstDef)
	if err != nil {
		return nil, fmt.Errorf("parsing target CRS %q: %w", dst, err)
	}
	ct, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("creating transform %q -> %q: %w", src, dst, err)
	}
	return checked(Transformer(ct)), nil
}

// checked rejects non-finite inputs and outputs.
func checked(t Transformer) Transformer {
	return func(lon, lat float64) (float64, float64, error) {
		if !finite(lon) || !finite(lat) {
			return 0, 0, fmt.Errorf("non-finite input coordinate (%v, %v)", lon, lat)
		}
		x, y, err := t(lon, lat)
		if err != nil {
			return 0, 0, err
		}
		if !finite(x) || !finite(y) {
			return 0, 0, fmt.Errorf("projection of (%v, %v) is not finite: (%v, %v)", lon, lat, x, y)
		}
		return x, y, nil
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Cache memoizes transformers per (source, target) pair. It is safe for
// concurrent use.
type Cache struct {
	entries *lru.Cache[string, Transformer]
}

// NewCache creates a cache holding up to size transformers. A non-positive
// size selects DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, Transformer](size)
	if err != nil {
		return nil, fmt.Errorf("creating transformer cache: %w", err)
	}
	return &Cache{entries: c}, nil
}

// Transformer returns the cached transformer for src -> dst, building it on
// first use.
func (c *Cache) Transformer(src, dst string) (Transformer, error) {
	key := src + "\x00" + dst
	if t, ok := c.entries.Get(key); ok {
		return t, nil
	}
	t, err := New(src, dst)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, t)
	return t, nil
}

// Len reports the number of cached transformers.
func (c *Cache) Len() int {
	return c.entries.Len()
}
