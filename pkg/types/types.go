// Package types contains public API types for the testnet bot.
// These types form the external interface of the HTTP API and the MCP tools.
package types

import (
	"fmt"
	"strconv"
	"time"
)

// Command is one of the closed set of operations the bot can execute.
type Command string

const (
	CommandCreateWallets Command = "create-wallets"
	CommandClaimFaucet   Command = "claim-faucet"
	CommandDeploy        Command = "deploy"
	CommandDistribute    Command = "distribute"
	CommandMintNFT       Command = "mint-nft"
	CommandTestProxies   Command = "test-proxies"
	CommandExit          Command = "exit"
)

// Commands lists every command in menu order.
var Commands = []Command{
	CommandCreateWallets,
	CommandClaimFaucet,
	CommandDeploy,
	CommandDistribute,
	CommandMintNFT,
	CommandTestProxies,
	CommandExit,
}

var commandTitles = map[Command]string{
	CommandCreateWallets: "Create new wallets",
	CommandClaimFaucet:   "Auto-claim faucet",
	CommandDeploy:        "Deploy token contract and interact",
	CommandDistribute:    "Distribute Sepolia ETH and bridge tokens",
	CommandMintNFT:       "Mint NFT",
	CommandTestProxies:   "Test proxies",
	CommandExit:          "Exit",
}

// Title returns the human-readable menu label.
func (c Command) Title() string {
	if t, ok := commandTitles[c]; ok {
		return t
	}
	return string(c)
}

// Valid reports whether c is a member of the command set.
func (c Command) Valid() bool {
	_, ok := commandTitles[c]
	return ok
}

// ParseCommand parses a command name.
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown command %q", s)
	}
	return c, nil
}

// CommandForMenuKey maps a 1-based menu choice ("1".."7") to its command.
func CommandForMenuKey(key string) (Command, bool) {
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 || n > len(Commands) {
		return "", false
	}
	return Commands[n-1], true
}

// RunStatus represents the state of a command run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EventStatus represents the outcome of a single step.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventSucceeded EventStatus = "succeeded"
	EventRetrying  EventStatus = "retrying"
	EventFailed    EventStatus = "failed"
)

// Event is one step of a run for one account (mint, approve, claim, ...).
type Event struct {
	RunID     string      `json:"runId"`
	Command   Command     `json:"command"`
	Account   string      `json:"account,omitempty"`
	Step      string      `json:"step"`
	Status    EventStatus `json:"status"`
	TxHash    string      `json:"txHash,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	Error     string      `json:"error,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunSummary stores the result of one command execution.
type RunSummary struct {
	ID          string     `json:"id"`
	Command     Command    `json:"command"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
}

// RunDetail is a run with its recorded events.
type RunDetail struct {
	RunSummary
	Events []Event `json:"events"`
}

// RunRequest is the API request to execute a command.
type RunRequest struct {
	Command Command `json:"command"`
	// Count is the number of wallets to create (create-wallets).
	Count int `json:"count,omitempty"`
	// Amount is the ether amount sent to each wallet (distribute).
	// Empty skips distribution and only bridges.
	Amount string `json:"amount,omitempty"`
}

// RunResponse is returned when a run is accepted.
type RunResponse struct {
	ID      string  `json:"id"`
	Command Command `json:"command"`
}

// Status is the service status payload.
type Status struct {
	Busy          bool       `json:"busy"`
	ActiveRun     string     `json:"activeRun,omitempty"`
	ActiveCommand Command    `json:"activeCommand,omitempty"`
	Wallets       int        `json:"wallets"`
	Proxies       int        `json:"proxies"`
	NextDeploy    *time.Time `json:"nextDeploy,omitempty"`
	UptimeSec     int64      `json:"uptimeSec"`
}

// Wallet is the public view of a stored wallet. Private keys never leave the store.
type Wallet struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
}

// ProxyTestResult is the outcome of one proxy connectivity test.
type ProxyTestResult struct {
	Index int    `json:"index"`
	Proxy string `json:"proxy"`
	IP    string `json:"ip,omitempty"`
	Error string `json:"error,omitempty"`
}

// PaginatedRuns is a page of run summaries.
type PaginatedRuns struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Stream message types sent over the WebSocket.
const (
	StreamEvent  = "event"
	StreamStatus = "status"
)

// StreamMessage is one WebSocket frame: a run event or a status snapshot.
type StreamMessage struct {
	Type   string  `json:"type"`
	Event  *Event  `json:"event,omitempty"`
	Status *Status `json:"status,omitempty"`
}
