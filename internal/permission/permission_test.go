package permission

import "testing"

func TestCheckWildcardAllowsEverything(t *testing.T) {
	if !Check("git.commit", []string{"*"}) {
		t.Fatal("expected * to allow any tool")
	}
}

func TestCheckNamespaceWildcard(t *testing.T) {
	perms := []string{"git:*"}
	if !Check("git.commit", perms) {
		t.Fatal("expected git:* to allow git.commit")
	}
	if Check("filesystem.read_file", perms) {
		t.Fatal("expected git:* to deny filesystem.read_file")
	}
	if Check("gitx.commit", perms) {
		t.Fatal("expected git:* to require a '.' boundary, not a bare prefix match")
	}
}

func TestCheckExactMatch(t *testing.T) {
	perms := []string{"git.status"}
	if !Check("git.status", perms) {
		t.Fatal("expected exact match to be allowed")
	}
	if Check("git.commit", perms) {
		t.Fatal("expected non-matching tool to be denied")
	}
}

func TestGateReturnsViolationWithoutLeakingPermissionList(t *testing.T) {
	err := Gate("git", "git.push", []string{"git.status", "git.commit"})
	if err == nil {
		t.Fatal("expected a violation error")
	}
	v, ok := err.(*Violation)
	if !ok {
		t.Fatalf("expected *Violation, got %T", err)
	}
	if v.SkillName != "git" || v.ToolName != "git.push" {
		t.Fatalf("unexpected violation fields: %+v", v)
	}
}

func TestGateAllowsCoveredTool(t *testing.T) {
	if err := Gate("git", "git.status", []string{"git:*"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
