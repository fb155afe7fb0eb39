package password

import "testing"

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals the plain password")
	}

	if err := Compare(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("compare rejected the correct password: %v", err)
	}
	if err := Compare(hash, "wrong password"); err == nil {
		t.Fatal("compare accepted a wrong password")
	}
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("same input")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	second, err := Hash("same input")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same input are identical")
	}
}
