package sequence

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStopsWhenYieldDeclines(t *testing.T) {
	var seen []int
	for v := range From([]int{1, 2, 3, 4}).Seq() {
		seen = append(seen, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, seen)
}

func TestKeysSorted(t *testing.T) {
	m := map[string]int{"b": 1, "a": 2, "c": 4}
	got := Keys(m).Sort(func(a, b string) bool { return a < b }).Collect()
	assert.Equal(t, []string{"a", "b", "c"}, got)

	values := Values(m).Sort(func(a, b int) bool { return a > b }).Collect()
	assert.Equal(t, []int{4, 2, 1}, values)
}

func TestSortIsStable(t *testing.T) {
	type pair struct {
		k string
		n int
	}
	in := []pair{{"x", 2}, {"y", 1}, {"z", 2}, {"w", 1}}
	got := From(in).Sort(func(a, b pair) bool { return a.n < b.n }).Collect()
	assert.Equal(t, []pair{{"y", 1}, {"w", 1}, {"x", 2}, {"z", 2}}, got)
}

func TestToArray(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, ToArray(From([]int{1, 2, 3}), strconv.Itoa))
	assert.Nil(t, ToArray(From([]int(nil)), strconv.Itoa))
}
