package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PackVersion packs a four component renderer version into a single integer,
// two decimal digits per component after the first.
func PackVersion(arch, major, minor, fix int) int32 {
	return int32(arch*1000000 + major*10000 + minor*100 + fix)
}

// UnpackVersion is the inverse of PackVersion
func UnpackVersion(v int32) [4]int {
	i := int(v)
	return [4]int{
		(i % 10000000) / 1000000,
		(i % 1000000) / 10000,
		(i % 10000) / 100,
		i % 100,
	}
}

// VersionString formats a packed version as "a.b.c.d"
func VersionString(v int32) string {
	p := UnpackVersion(v)
	return fmt.Sprintf("%d.%d.%d.%d", p[0], p[1], p[2], p[3])
}

// ParseVersion packs a version written as "a.b.c.d". Missing trailing
// components are 0.
func ParseVersion(s string) (int32, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 4 {
		return 0, errors.Errorf("version %q: too many components", s)
	}
	var p [4]int
	for i, part := range parts {
		limit := 99
		if i == 0 {
			limit = 9
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limit {
			return 0, errors.Errorf("version %q: invalid component %q", s, part)
		}
		p[i] = n
	}
	return PackVersion(p[0], p[1], p[2], p[3]), nil
}
