// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/absmach/mqttgate/cmd/mqttgate/cmd"

func main() {
	cmd.Execute()
}
