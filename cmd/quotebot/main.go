// Command quotebot runs the quote-retrieval chat agent and its maintenance
// commands.
package main

import "github.com/mesh-intelligence/quotebot/internal/cli"

func main() {
	cli.Execute()
}
