package ir

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strconv"
)

// ContentHash returns the hex sha1 digest of the scope's IR: its identity,
// arity, linearized instructions and, recursively, its closures. The digest
// names JIT artifacts and keys the artifact cache.
func (s *Scope) ContentHash() (string, error) {
	if h := s.hash.Load(); h != nil {
		return *h, nil
	}
	d := sha1.New()
	if err := s.writeIR(d); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(d.Sum(nil))
	s.hash.Store(&sum)
	return sum, nil
}

func (s *Scope) writeIR(w io.Writer) error {
	ic, err := s.InterpreterContext()
	if err != nil {
		return err
	}
	io.WriteString(w, s.Kind.String())
	io.WriteString(w, " ")
	io.WriteString(w, s.ClassName)
	io.WriteString(w, "#")
	io.WriteString(w, s.Name)
	io.WriteString(w, "/"+strconv.Itoa(s.RequiredArgs)+"/"+strconv.Itoa(s.OptionalArgs))
	io.WriteString(w, "\n")
	for pc, instr := range ic.Instrs {
		io.WriteString(w, strconv.Itoa(pc))
		io.WriteString(w, " ")
		io.WriteString(w, instr.String())
		io.WriteString(w, " ")
		io.WriteString(w, strconv.Itoa(ic.RescuePCs[pc]))
		io.WriteString(w, " ")
		io.WriteString(w, strconv.Itoa(ic.EnsurePCs[pc]))
		io.WriteString(w, "\n")
	}
	for _, cl := range s.closures {
		io.WriteString(w, "closure\n")
		if err := cl.writeIR(w); err != nil {
			return err
		}
	}
	return nil
}
