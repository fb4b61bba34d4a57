package util

import (
	"reflect"
	"sort"
	"sync"
)

// Cache holds the latest value per parameter path
type Cache struct {
	sync.Mutex
	val map[string]Param
}

// NewCache creates cache
func NewCache() *Cache {
	return &Cache{
		val: make(map[string]Param),
	}
}

// Run adds input channel's values to cache
func (c *Cache) Run(in <-chan Param) {
	log := NewLogger("cache")

	for p := range in {
		if c.Add(p) {
			log.TRACE.Printf("%s: %v", p.Path(), p.Val)
		}
	}
}

// All provides a copy of the cached values sorted by path
func (c *Cache) All() []Param {
	c.Lock()
	defer c.Unlock()

	res := make([]Param, 0, len(c.val))
	for _, val := range c.val {
		res = append(res, val)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Path() < res[j].Path()
	})

	return res
}

// Vehicle provides a copy of all cached values of the given vehicle
func (c *Cache) Vehicle(vin string) []Param {
	var res []Param
	for _, p := range c.All() {
		if p.VIN == vin {
			res = append(res, p)
		}
	}
	return res
}

// Add upserts the parameter and reports whether value, unit or name have changed.
// Adding an identical parameter twice is a no-op.
func (c *Cache) Add(param Param) bool {
	c.Lock()
	defer c.Unlock()

	key := param.UniqueID()
	if old, ok := c.val[key]; ok && old.Unit == param.Unit && old.Name == param.Name && reflect.DeepEqual(old.Val, param.Val) {
		return false
	}

	c.val[key] = param
	return true
}

// Get entry from cache
func (c *Cache) Get(path string) (Param, bool) {
	c.Lock()
	defer c.Unlock()

	val, ok := c.val[path]
	return val, ok
}
