// pkg/cache/memoize.go
// Memoization helpers built on Cache

package cache

// Memoize wraps a pure function so repeat calls with an identical key
// return the cached result. Pointer-typed inputs are matched by identity.
//
// LEARN: The function runs outside the cache lock. Two goroutines missing
// on the same key at once may both compute; the later Set wins. That is
// acceptable for a pure function and avoids holding a lock across
// arbitrary user code.
//
//	area := cache.Memoize(c, func(s *Series) float64 { return integrate(s) })
//	a := area(series) // computed
//	b := area(series) // cached
func Memoize[K comparable, V any](c *Cache[K, V], fn func(K) V) func(K) V {
	return func(key K) V {
		if v, ok := c.Get(key); ok {
			return v
		}
		v := fn(key)
		c.Set(key, v)
		return v
	}
}

// MemoizeBy is Memoize with a derived key, for inputs that are not
// comparable themselves (slices, maps) or that should be matched by
// content rather than identity.
func MemoizeBy[In any, K comparable, V any](c *Cache[K, V], fn func(In) V, keyFn func(In) K) func(In) V {
	return func(in In) V {
		key := keyFn(in)
		if v, ok := c.Get(key); ok {
			return v
		}
		v := fn(in)
		c.Set(key, v)
		return v
	}
}
