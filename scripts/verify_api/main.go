package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type loginResponse struct {
	Token string `json:"token"`
}

// Smoke-checks the api service: signup an account (409 on rerun is fine),
// then log in and print a token prefix plus the presence list.
func main() {
	apiAddr := "http://localhost:8081"

	signupBody, _ := json.Marshal(map[string]string{
		"email":    "smoke@example.com",
		"password": "password123",
		"username": "smoke",
	})
	resp, err := http.Post(apiAddr+"/signup", "application/json", bytes.NewBuffer(signupBody))
	if err != nil {
		log.Fatal(err)
	}
	resp.Body.Close()
	log.Printf("signup: %s", resp.Status)

	loginBody, _ := json.Marshal(map[string]string{
		"email":    "smoke@example.com",
		"password": "password123",
	})
	resp, err = http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(loginBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("login failed: %s", string(body))
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", login.Token[:10])

	req, _ := http.NewRequest("GET", apiAddr+"/presence", nil)
	req.Header.Add("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("presence request failed:", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	log.Printf("Presence: %s", string(body))
}
