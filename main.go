// Command kawalobat-classify is a small debugging helper that runs the reply
// classifier on its arguments. The real service entry point is cmd/KawalObat.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/SehatKit/KawalObat/internal/classifier"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: kawalobat-classify <reply text>")
		os.Exit(2)
	}

	text := strings.Join(os.Args[1:], " ")
	result := classifier.Classify(text)
	fmt.Printf("type=%s confidence=%.1f emergency=%v\n", result.Type, result.Confidence, classifier.DetectEmergency(text))
}
