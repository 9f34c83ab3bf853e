// Command server runs the atelier backend: the WebSocket agent endpoint,
// the HTTP file and spaces API, and the MCP endpoint for the code_exec
// tool set.
//
// Configuration comes from a YAML file (--config, ATELIER_CONFIG,
// ./config.yaml or /etc/atelier/config.yaml) with ATELIER_* environment
// overrides. Run "server serve --help" for the flags.
package main

func main() {
	execute()
}
