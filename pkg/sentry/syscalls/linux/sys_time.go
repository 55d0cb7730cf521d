// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linux

import (
	"gvisor.dev/sv39/pkg/abi/linux"
	"gvisor.dev/sv39/pkg/sentry/arch"
	"gvisor.dev/sv39/pkg/sentry/kernel"
)

// GetTimeOfDay implements gettimeofday(tv, tz). tz is ignored.
func GetTimeOfDay(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	tv := linux.NsecToTimeval(t.Kernel().Now().UnixNano())
	return 0, copyOutObject(t, addr, &tv)
}
