// Package ref reads and writes typed elements that live in pooled memory.
//
// The pool hands out raw addresses. A Ref pairs such an address with its
// memory space and moves values through the space's memspace.Copier, so the
// same code works for host memory and device memory:
//
//	s, err := ref.Make[int32](a, 10000, pool.Device)
//	if err != nil {
//	    return err
//	}
//	defer s.Release(a)
//
//	r, _ := s.At(42)
//	_ = r.Set(7)
//	v, _ := r.Get()
//
// Element types are restricted to fixed-size scalars; values are copied
// byte-for-byte in the machine's native layout.
package ref
