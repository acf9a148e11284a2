// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package address holds the Address type, grounded on the teacher's
// mongo/address package.
package address

// Address is a network address for a server, usually in "host:port"
// form.
type Address string

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }
