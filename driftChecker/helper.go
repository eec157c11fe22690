package driftChecker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	awsm "coursechatbot/awsd/models"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// NoDriftMessage is the single finding reported for an in-sync stack
const NoDriftMessage = "No drift detected between the declared stack and AWS."

// declaredState is the part of the graph the watcher can compare with AWS
type declaredState struct {
	stack      string
	instanceID string
	instance   models.InstanceProps
	groupID    string
	ingress    []models.IngressRule
	eipID      string
	record     *models.DNSRecordProps
	zoneName   string
}

// liveState is what AWS currently reports for the declared nodes
type liveState struct {
	instance *awsm.Instance
	group    *awsm.SecurityGroup
	eip      *awsm.ElasticIP
	record   *awsm.DNSRecord
}

// declared extracts the watched nodes from the graph
func declared(graph *models.ResourceGraph) (*declaredState, error) {
	instances := graph.NodesOfKind(models.KindInstance)
	if len(instances) != 1 {
		return nil, errors.New(errors.ErrDriftChecker, "graph must declare exactly one instance",
			map[string]interface{}{"instances": len(instances)}, nil)
	}

	state := &declaredState{
		stack:      graph.Stack.StackName,
		instanceID: instances[0].ID,
		instance:   instances[0].Props.(models.InstanceProps),
	}

	group, ok := graph.Node(state.instance.SecurityGroup.Node)
	if !ok {
		return nil, errors.New(errors.ErrDriftChecker, "instance references an undeclared security group",
			map[string]interface{}{"node": state.instance.SecurityGroup.Node}, nil)
	}
	state.groupID = group.ID
	state.ingress = group.Props.(models.SecurityGroupProps).Ingress

	if eips := graph.NodesOfKind(models.KindElasticIP); len(eips) > 0 {
		state.eipID = eips[0].ID
	}

	if records := graph.NodesOfKind(models.KindDNSRecord); len(records) > 0 {
		props := records[0].Props.(models.DNSRecordProps)
		state.record = &props
		if props.Zone.Zone != nil {
			zone, ok := graph.Node(props.Zone.Zone.Node)
			if !ok {
				return nil, errors.New(errors.ErrDriftChecker, "record references an undeclared zone",
					map[string]interface{}{"node": props.Zone.Zone.Node}, nil)
			}
			state.zoneName = zone.Props.(models.HostedZoneProps).ZoneName
		}
	}
	return state, nil
}

// compareStates fans the comparisons out and collects their findings
func compareStates(ctx context.Context, want *declaredState, got *liveState) ([]string, error) {
	logger := zap.L().With(
		zap.String("function", "compareStates"),
		zap.String("stack", want.stack),
		zap.String("instance_id", got.instance.InstanceID),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("Starting stack comparison",
		zap.String("operation", "comparison_start"),
	)

	driftCh := make(chan string)
	var driftDetected []string
	var wg sync.WaitGroup

	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	run(func() { compareInstance(ctx, want, got, driftCh) })
	run(func() { compareIngress(ctx, want, got, driftCh) })
	if got.eip != nil {
		run(func() { compareElasticIP(ctx, got, driftCh) })
	}
	if want.record != nil && got.record != nil && got.eip != nil {
		run(func() { compareDNSRecord(ctx, want, got, driftCh) })
	}

	go func() {
		wg.Wait()
		close(driftCh)
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Comparison cancelled",
				zap.String("operation", "comparison_cancelled"),
			)
			return nil, ctx.Err()
		case drift, ok := <-driftCh:
			if !ok {
				sort.Strings(driftDetected)
				if len(driftDetected) == 0 {
					driftDetected = append(driftDetected, NoDriftMessage)
				}
				logger.Info("Comparison completed",
					zap.String("operation", "comparison_complete"),
					zap.Int("drift_count", len(driftDetected)),
				)
				return driftDetected, nil
			}
			driftDetected = append(driftDetected, drift)
		}
	}
}

// report sends a finding unless the comparison was abandoned
func report(ctx context.Context, ch chan<- string, format string, args ...interface{}) {
	select {
	case ch <- fmt.Sprintf(format, args...):
	case <-ctx.Done():
	}
}

func compareInstance(ctx context.Context, want *declaredState, got *liveState, ch chan<- string) {
	if got.instance.InstanceType != want.instance.InstanceType {
		report(ctx, ch, "InstanceType drift detected: AWS=%s, declared=%s", got.instance.InstanceType, want.instance.InstanceType)
	}
	if got.instance.KeyName != want.instance.KeyName {
		report(ctx, ch, "KeyName drift detected: AWS=%s, declared=%s", got.instance.KeyName, want.instance.KeyName)
	}
	if want.instance.Image.ID != "" && got.instance.ImageID != want.instance.Image.ID {
		report(ctx, ch, "AMI drift detected: AWS=%s, declared=%s", got.instance.ImageID, want.instance.Image.ID)
	}
	if got.instance.State != "" && got.instance.State != "running" {
		report(ctx, ch, "Instance state drift detected: AWS=%s, declared=running", got.instance.State)
	}

	attached := false
	for _, id := range got.instance.SecurityGroupIDs {
		if id == got.group.GroupID {
			attached = true
			break
		}
	}
	if !attached {
		report(ctx, ch, "Security group drift detected: %s is not attached to instance %s", got.group.GroupID, got.instance.InstanceID)
	}
}

// ruleKey renders a live permission the way IngressRule.Key does
func ruleKey(p awsm.IngressPermission) string {
	return strings.Join([]string{p.Protocol, strconv.Itoa(p.FromPort), p.Source}, "/")
}

func compareIngress(ctx context.Context, want *declaredState, got *liveState, ch chan<- string) {
	declaredRules := make(map[string]bool, len(want.ingress))
	for _, r := range want.ingress {
		declaredRules[r.Key()] = true
	}

	live := make(map[string]bool, len(got.group.Ingress))
	for _, p := range got.group.Ingress {
		if p.FromPort != p.ToPort {
			report(ctx, ch, "Ingress drift detected: unexpected port range %s/%d-%d/%s", p.Protocol, p.FromPort, p.ToPort, p.Source)
			continue
		}
		key := ruleKey(p)
		live[key] = true
		if !declaredRules[key] {
			report(ctx, ch, "Ingress drift detected: unexpected rule %s", key)
		}
	}

	for _, r := range want.ingress {
		if !live[r.Key()] {
			report(ctx, ch, "Ingress drift detected: missing rule %s", r.Key())
		}
	}
}

func compareElasticIP(ctx context.Context, got *liveState, ch chan<- string) {
	if !got.eip.Associated() {
		report(ctx, ch, "Elastic IP drift detected: %s is not associated", got.eip.PublicIP)
		return
	}
	if got.eip.InstanceID != got.instance.InstanceID {
		report(ctx, ch, "Elastic IP drift detected: %s is associated with %s, declared=%s", got.eip.PublicIP, got.eip.InstanceID, got.instance.InstanceID)
	}
	if got.instance.PublicIP != got.eip.PublicIP {
		report(ctx, ch, "Public IP drift detected: AWS=%s, declared=%s", got.instance.PublicIP, got.eip.PublicIP)
	}
}

func compareDNSRecord(ctx context.Context, want *declaredState, got *liveState, ch chan<- string) {
	if len(got.record.Values) != 1 || got.record.Values[0] != got.eip.PublicIP {
		report(ctx, ch, "DNS drift detected: %s resolves to %v, declared=%s", want.record.Name, got.record.Values, got.eip.PublicIP)
	}
	if got.record.TTL != int64(want.record.TTL) {
		report(ctx, ch, "DNS TTL drift detected: AWS=%d, declared=%d", got.record.TTL, want.record.TTL)
	}
}
