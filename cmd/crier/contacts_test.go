package main

import (
	"strings"
	"testing"
)

func TestContactsCmd_AddListRemove(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execCmd(t, "contacts", "add", "55 1234 5678", "U1", "--name", "Alice", "--config", cfgPath)
	if err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added 525512345678 -> U1") {
		t.Errorf("add output = %q", out)
	}

	out, err = execCmd(t, "contacts", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "ADDRESS") || !strings.Contains(out, "525512345678") || !strings.Contains(out, "Alice") {
		t.Errorf("list output = %q", out)
	}

	out, err = execCmd(t, "contacts", "rm", "5512345678", "--config", cfgPath)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out, "Removed 5512345678") {
		t.Errorf("remove output = %q", out)
	}

	out, err = execCmd(t, "contacts", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No contacts.") {
		t.Errorf("list after remove = %q", out)
	}
}

func TestContactsCmd_RemoveMissing(t *testing.T) {
	cfgPath := writeConfig(t, "")
	_, err := execCmd(t, "contacts", "remove", "5599999999", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error removing unknown contact")
	}
}

func TestContactsCmd_AddRequiresArgs(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if _, err := execCmd(t, "contacts", "add", "5512345678", "--config", cfgPath); err == nil {
		t.Fatal("expected argument error")
	}
}
