package packager

import (
	"fmt"
	"io"
	"reflect"
)

var closerType = reflect.TypeOf((*io.Closer)(nil)).Elem()

/**
checks that a value can travel to another machine. Channels, functions and unsafe pointers cannot be
encoded meaningfully, and anything that can be Close()d (files, sockets, connections) is a live resource
that means nothing in the container
*/
func checkPortable(v interface{}, path string) error {
	return walkPortable(reflect.ValueOf(v), path, make(map[uintptr]bool))
}

func walkPortable(v reflect.Value, path string, seen map[uintptr]bool) error {
	if !v.IsValid() {
		return nil
	}
	t := v.Type()

	if t.Implements(closerType) || (t.Kind() != reflect.Ptr && t.Kind() != reflect.Interface && reflect.PtrTo(t).Implements(closerType)) {
		return fmt.Errorf("%s holds a live resource (%s)", path, t)
	}

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Errorf("%s is a %s, which cannot be serialized", path, t.Kind())
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		if seen[v.Pointer()] {
			return nil
		}
		seen[v.Pointer()] = true
		return walkPortable(v.Elem(), path, seen)
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkPortable(v.Elem(), path, seen)
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := walkPortable(v.Index(i), fmt.Sprintf("%s[%d]", path, i), seen); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := walkPortable(iter.Key(), path+"{key}", seen); err != nil {
				return err
			}
			if err := walkPortable(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key()), seen); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue //unexported fields are never encoded
			}
			if err := walkPortable(v.Field(i), path+"."+field.Name, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
