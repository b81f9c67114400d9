package command

import (
	"github.com/pkg/errors"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

func (p *Parser) allowedType(t mgmt.ComponentType) bool {
	switch p.process {
	case mgmt.ProcMirror:
		return t == mgmt.CompMirror
	case mgmt.ProcVF:
		return t == mgmt.CompClassifierMAC || t == mgmt.CompMerge || t == mgmt.CompForward
	}
	return false
}

// ComponentTypes lists the component type names "component start" accepts.
func (p *Parser) ComponentTypes() []string {
	var out []string
	for _, t := range []mgmt.ComponentType{mgmt.CompClassifierMAC, mgmt.CompMerge, mgmt.CompForward, mgmt.CompMirror} {
		if p.allowedType(t) {
			out = append(out, t.String())
		}
	}
	return out
}

func (p *Parser) componentParams() []param[ComponentCommand] {
	return []param[ComponentCommand]{
		{name: "action", decode: func(c *ComponentCommand, tok string, _ bool) error {
			c.Action = parseAction(tok)
			if c.Action != ActionStart && c.Action != ActionStop {
				return errors.Errorf("unknown component action %q", tok)
			}
			return nil
		}},
		{name: "component name", decode: func(c *ComponentCommand, tok string, _ bool) error {
			if c.Action == ActionStart {
				if _, used := p.check.ComponentByName(tok); used {
					return errors.Errorf("component name %q in use", tok)
				}
			}
			if len(tok) > mgmt.MaxNameLen {
				return errors.Errorf("component name %d bytes long", len(tok))
			}
			c.Name = tok
			return nil
		}},
		{name: "core", decode: func(c *ComponentCommand, tok string, _ bool) error {
			if c.Action != ActionStart {
				return nil
			}
			v, err := decodeInt(tok, 0, mgmt.MaxLcore-1)
			if err != nil {
				return err
			}
			c.Core = v
			return nil
		}},
		{name: "component type", decode: func(c *ComponentCommand, tok string, _ bool) error {
			if c.Action != ActionStart {
				return nil
			}
			t, ok := mgmt.ParseComponentType(tok)
			if !ok || !p.allowedType(t) {
				return errors.Errorf("component type %q not supported", tok)
			}
			c.Type = t
			return nil
		}},
	}
}

func (p *Parser) decodeComponent(args []string, override bool) (Command, error) {
	c := &ComponentCommand{}
	if err := decodeParams(p.componentParams(), c, args, override); err != nil {
		return nil, err
	}
	if c.Action == ActionStart {
		switch len(args) {
		case 2:
			return nil, noParam("core")
		case 3:
			return nil, noParam("component type")
		}
	}
	return c, nil
}

func (p *Parser) portParams() []param[PortCommand] {
	return []param[PortCommand]{
		{name: "action", decode: func(c *PortCommand, tok string, _ bool) error {
			c.Action = parseAction(tok)
			if c.Action != ActionAdd && c.Action != ActionDel {
				return errors.Errorf("unknown port action %q", tok)
			}
			return nil
		}},
		{name: "port", decode: func(c *PortCommand, tok string, override bool) error {
			id, err := dataplane.ParsePortID(tok)
			if err != nil {
				return err
			}
			if !override && c.Action == ActionAdd &&
				p.check.PortInUse(id, mgmt.DirRx) && p.check.PortInUse(id, mgmt.DirTx) {
				return errors.Errorf("port %s in use for rx and tx", id)
			}
			c.Port = id
			return nil
		}},
		{name: "port rxtx", decode: func(c *PortCommand, tok string, override bool) error {
			dir, ok := mgmt.ParseDirection(tok)
			if !ok {
				return errors.Errorf("unknown direction %q", tok)
			}
			if !override && c.Action == ActionAdd && p.check.PortInUse(c.Port, dir) {
				return errors.Errorf("port %s in use for %s", c.Port, dir)
			}
			c.Dir = dir
			return nil
		}},
		{name: "component name", decode: func(c *PortCommand, tok string, _ bool) error {
			if _, ok := p.check.ComponentByName(tok); !ok {
				return errors.Errorf("no component %q", tok)
			}
			c.Name = tok
			return nil
		}},
		{name: "port vlan operation", decode: func(c *PortCommand, tok string, _ bool) error {
			op, ok := mgmt.ParseAbilityOp(tok)
			if !ok {
				return errors.Errorf("unknown vlan operation %q", tok)
			}
			c.Ability.Op = op
			c.Ability.Dir = c.Dir
			return nil
		}},
		{name: "port vid", decode: func(c *PortCommand, tok string, _ bool) error {
			if c.Ability.Op != mgmt.OpAddVlanTag {
				return nil
			}
			v, err := decodeInt(tok, 0, mgmt.MaxVID)
			if err != nil {
				return err
			}
			c.Ability.VID = v
			c.Ability.PCP = -1
			return nil
		}},
		{name: "port pcp", decode: func(c *PortCommand, tok string, _ bool) error {
			if c.Ability.Op != mgmt.OpAddVlanTag {
				return nil
			}
			v, err := decodeInt(tok, 0, mgmt.MaxPCP)
			if err != nil {
				return err
			}
			c.Ability.PCP = v
			return nil
		}},
	}
}

func (p *Parser) decodePort(args []string, override bool) (Command, error) {
	c := &PortCommand{}
	if err := decodeParams(p.portParams(), c, args, override); err != nil {
		return nil, err
	}
	if c.Action == ActionAdd && c.Ability.Op == mgmt.OpAddVlanTag && len(args) < 6 {
		return nil, noParam("port vid")
	}
	return c, nil
}

func (p *Parser) classifierParams(vlan bool) []param[ClassifierTableCommand] {
	params := []param[ClassifierTableCommand]{
		{name: "action", decode: func(c *ClassifierTableCommand, tok string, _ bool) error {
			c.Action = parseAction(tok)
			if c.Action != ActionAdd && c.Action != ActionDel {
				return errors.Errorf("unknown classifier action %q", tok)
			}
			return nil
		}},
		{name: "type", decode: func(c *ClassifierTableCommand, tok string, _ bool) error {
			want := "mac"
			if vlan {
				want = "vlan"
			}
			if tok != want {
				return errors.Errorf("classifier type %q, want %q", tok, want)
			}
			c.Type = ClassifierMAC
			c.VID = mgmt.MaxVID
			if vlan {
				c.Type = ClassifierVLAN
			}
			return nil
		}},
	}
	if vlan {
		params = append(params, param[ClassifierTableCommand]{name: "vlan id",
			decode: func(c *ClassifierTableCommand, tok string, _ bool) error {
				v, err := decodeInt(tok, 0, mgmt.MaxVID)
				if err != nil {
					return err
				}
				c.VID = v
				return nil
			}})
	}
	return append(params,
		param[ClassifierTableCommand]{name: "mac address",
			decode: func(c *ClassifierTableCommand, tok string, _ bool) error {
				if tok == "default" {
					tok = mgmt.DefaultClassMAC
				}
				if _, err := mgmt.ParseMAC(tok); err != nil {
					return err
				}
				c.MAC = tok
				return nil
			}},
		param[ClassifierTableCommand]{name: "port",
			decode: func(c *ClassifierTableCommand, tok string, _ bool) error {
				id, err := dataplane.ParsePortID(tok)
				if err != nil {
					return err
				}
				port, ok := p.check.Port(id)
				if !ok {
					return errors.Errorf("port %s not added", id)
				}
				cls, err := c.ClassID()
				if err != nil {
					return err
				}
				switch c.Action {
				case ActionAdd:
					if port.Class.Used() {
						return errors.Errorf("port %s already has a classifier entry", id)
					}
				case ActionDel:
					if port.Class != cls {
						return errors.Errorf("port %s classifier entry does not match", id)
					}
				}
				c.Port = id
				return nil
			}},
	)
}

func (p *Parser) decodeClassifierMAC(args []string, override bool) (Command, error) {
	c := &ClassifierTableCommand{}
	if err := decodeParams(p.classifierParams(false), c, args, override); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) decodeClassifierVLAN(args []string, override bool) (Command, error) {
	c := &ClassifierTableCommand{}
	if err := decodeParams(p.classifierParams(true), c, args, override); err != nil {
		return nil, err
	}
	return c, nil
}
