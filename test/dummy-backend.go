package main

import (
	"fmt"
	"log"
	"net/http"
)

// Stand-in tax-data backend for local gateway testing.
func main() {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s (owner=%s tier=%s)",
			r.Method, r.URL.Path, r.Header.Get("X-Context-ownerId"), r.Header.Get("X-Context-tier"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"dates": [], "country": "AU", "path": "%s"}`, r.URL.Path)
	})

	log.Println("Tax-data stub backend starting on :3001")
	if err := http.ListenAndServe(":3001", nil); err != nil {
		log.Fatal(err)
	}
}
