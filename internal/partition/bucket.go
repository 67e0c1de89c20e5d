package partition

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Bucket is one calendar quarter in UTC, covering [From, To).
type Bucket struct {
	Year    int
	Quarter int
}

// QuarterOf returns the bucket containing t.
func QuarterOf(t time.Time) Bucket {
	t = t.UTC()
	return Bucket{Year: t.Year(), Quarter: (int(t.Month())-1)/3 + 1}
}

// From is the inclusive lower bound of the bucket.
func (b Bucket) From() time.Time {
	return time.Date(b.Year, time.Month((b.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// To is the exclusive upper bound of the bucket.
func (b Bucket) To() time.Time {
	return b.From().AddDate(0, 3, 0)
}

// Add returns the bucket n quarters after b. n may be negative.
func (b Bucket) Add(n int) Bucket {
	idx := b.Year*4 + (b.Quarter - 1) + n
	return Bucket{Year: idx / 4, Quarter: idx%4 + 1}
}

// Name is the partition table name of the bucket for table.
func (b Bucket) Name(table string) string {
	return fmt.Sprintf("%s_%04dq%d", table, b.Year, b.Quarter)
}

func (b Bucket) String() string {
	return fmt.Sprintf("%04dq%d", b.Year, b.Quarter)
}

var namePattern = regexp.MustCompile(`^(.+)_(\d{4})q([1-4])$`)

// ParseName extracts the bucket from a partition name of table. It reports
// false for names that do not follow the naming scheme, such as the default
// partition.
func ParseName(table, name string) (Bucket, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil || m[1] != table {
		return Bucket{}, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return Bucket{}, false
	}
	quarter, _ := strconv.Atoi(m[3])
	return Bucket{Year: year, Quarter: quarter}, true
}
