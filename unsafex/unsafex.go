/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package unsafex

import "unsafe"

// SliceData returns the data pointer of b without touching b[0],
// so it works for zero-length slices carved from a larger buffer.
// It returns nil for a nil slice.
func SliceData(b []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(b))
}

// Offset returns p - base, and false if p lies before base.
func Offset(base, p unsafe.Pointer) (uintptr, bool) {
	if uintptr(p) < uintptr(base) {
		return 0, false
	}
	return uintptr(p) - uintptr(base), true
}
