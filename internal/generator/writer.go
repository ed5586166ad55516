package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanshika/fintrace/txnengine/internal/manager"
)

// WriteDataset serializes the dataset into accounts.json and requests.json
// under the provided directory.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	accountsPath := filepath.Join(dir, "accounts.json")
	if err := writeJSON(accountsPath, dataset.Accounts); err != nil {
		return err
	}

	requestsPath := filepath.Join(dir, "requests.json")
	if err := writeJSON(requestsPath, dataset.Requests); err != nil {
		return err
	}

	return nil
}

// ReadRequests loads a requests.json file written by WriteDataset.
func ReadRequests(path string) ([]manager.SubmitRequest, error) {
	var reqs []manager.SubmitRequest
	if err := readJSON(path, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// ReadAccounts loads an accounts.json file written by WriteDataset.
func ReadAccounts(path string) ([]Account, error) {
	var accounts []Account
	if err := readJSON(path, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
