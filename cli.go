package main

import (
	"fmt"
	"os"
	"sort"

	"agora/server/internal/config"
	"agora/server/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, so main can fall through to the server if it was not.
func RunCLI(args []string, dbPath, configPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("agora server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "agents":
		return cliAgents(configPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	name, ok, err := st.GetSetting("server_name")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading settings: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		name = "agora"
	}

	fmt.Printf("Server: %s\n", name)
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliAgents(configPath string) bool {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading agents config: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		fmt.Println("No agents configured.")
		return true
	}

	for _, id := range ids {
		agent := cfg.Agents[id]
		status := "available"
		if !cfg.IsAgentAvailable(agent) {
			status = "unavailable (missing credentials)"
		}
		fmt.Printf("  %-12s %-24s provider=%-10s model=%-20s %s\n", agent.ID, agent.Name, agent.Provider, agent.Model, status)
	}
	return true
}
